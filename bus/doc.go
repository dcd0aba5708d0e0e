/*
Package bus implements the in-process publish/subscribe message router.

A Bus is owned by whoever constructs it, typically a workflow engine; there
is no process-wide singleton. Subscribers register a Pattern over message
type, source, target and priority, where an unset field always matches.
On publish the bus appends the message to a bounded history ring, orders the
matching subscriptions so exact target matches come first, and delivers to
each handler independently on a bounded worker pool: one handler's error or
panic never prevents delivery to the others, it is captured and re-emitted
as a delivery-error signal.

Request performs short-lived request/response over the bus, awaiting the
first message that carries the same correlation id with a per-call timeout.

The bus reports its own lifecycle as system messages (message-published,
message-delivered, delivery-error) that ordinary subscriptions can observe;
those signals bypass the history ring so the bounded buffer keeps tracking
application messages.
*/
package bus
