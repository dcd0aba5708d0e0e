/*
Package registry implements the capability registry: the in-memory map from
agent identity to declared capabilities that the workflow engine resolves
workers through.

Registration is replace-on-duplicate: re-registering an id overwrites the
previous agent with a warning, keeping its original registration slot so
lookup order stays deterministic. Lookups return agents in registration
order. Health checks fan out concurrently and treat agents without a probe
as healthy. Selection among multiple candidates for a capability goes
through a pluggable SelectionPolicy; the default picks the first registered
match, with round-robin, least-busy and sticky-by-correlation policies
available as drop-ins.
*/
package registry
