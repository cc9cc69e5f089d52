// Package ratelimit paces successive requests to the timeline API.
//
// The harvest loop waits on a Pacer after every saved page. JitteredDelay
// sleeps the configured delay plus a random jitter so request spacing is
// not perfectly regular; NoDelay is used in tests.
package ratelimit
