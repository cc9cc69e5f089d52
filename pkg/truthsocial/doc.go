// Package truthsocial is the HTTP adapter for the Mastodon-compatible
// account timeline API served by Truth Social.
//
// Client.LookupAccount resolves a handle to an account id. Timeline
// fetches one page of statuses per call, paginating with max_id; it is
// the harvest loop's page fetcher. Non-2xx responses are returned as
// typed errors so the retrier can decide what is transient.
package truthsocial
