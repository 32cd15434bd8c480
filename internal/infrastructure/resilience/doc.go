/*
Package resilience provides a circuit breaker for sandbox boot attempts.

A workspace whose boot keeps failing (bad seed files, a broken install step,
an exhausted sandbox backend) trips its breaker; further attempts fail fast
with ErrCircuitOpen until the open timeout elapses. Group keeps one breaker
per workspace name.

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	err := group.Get("effect").Do(ctx, boot)

States:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
