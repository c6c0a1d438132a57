/*
Package partialsync keeps partial query subscriptions in a local store.DB
and downloads their rows from a Server.

A partial query only shows data the server has sent. Subscribing records the
query in the __subscriptions table (status pending) and starts a download.
The download ends in one of two commits: the rows together with status
complete, or status error with the server's reason. Live results built on
the returned source see INITIAL while the subscription is pending, then
LOADED with every downloaded row inserted, or ERROR.

Transient failures (ErrTransient) are retried with exponential backoff and
reported through Options.OnConnectionChange. They never show up in live
results.
*/
package partialsync
