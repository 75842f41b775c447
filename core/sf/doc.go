// Package sf provides a generic single-flight mechanism for deduplicating
// concurrent function calls with the same key.
//
// If multiple goroutines call [Singleflight.Do] with the same key
// concurrently, only the first call executes the function; subsequent
// callers block until it completes and then receive the same result.
//
// The event-sourcing repository uses it to collapse concurrent loads of the
// same stream into one store round trip:
//
//	loads := sf.New[[]es.Envelope]()
//	envs, _, err := loads.Do(streamKey, func() ([]es.Envelope, error) {
//	    return store.Load(ctx, bucket, id)
//	})
package sf
