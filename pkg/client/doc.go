/*
Package client is the Go client for the hub's HTTP API.

It wraps every request surface operation in a typed method and decodes
the hub's error envelope into APIError values carrying the stable error
kind, so callers can branch on kinds the same way server-side code does.
The junction CLI is built on this package.
*/
package client
