/*
Package clientcache keeps one datastore.TableClient per table name.

Clients are built on first use and evicted once they have been idle for the
TTL; every Get refreshes the idle timer. Eviction happens lazily on Get, on an
explicit Purge, and in the background loop started with Start:

	cache, err := clientcache.New(svc,
	    clientcache.WithTTL(10*time.Minute),
	    clientcache.WithEnsureTables(true),
	    clientcache.WithMetrics(prometheus.DefaultRegisterer, "players"),
	)
	cache.Start(ctx)
	defer cache.Close()

	players, err := cache.Get(ctx, "players")

All bookkeeping happens under a single mutex, including table creation when
WithEnsureTables is set.
*/
package clientcache
