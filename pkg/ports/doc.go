/*
Package ports implements the hub's advisory TCP port allocator.

Two mechanisms combine to keep allocations conflict-free:

  - An in-process lease set (mutex-protected) prevents two concurrent
    registrations from racing for the same port when each would
    independently pass a bind test.
  - A bind-and-close probe on IPv4 0.0.0.0 prevents collisions with
    externally-run processes that started since the last scan.

There is no long-term OS reservation; a lease is a claim inside this
process only. FindAvailable scans sequentially from a starting port and
fails with the PortExhausted kind when the scan leaves the configured
range or exceeds its attempt budget.
*/
package ports
