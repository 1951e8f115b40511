// Package syntax holds the identifier formats a moderation subject is built from: DIDs, AT-URIs (with their NSID collection and record key segments), and CIDs.
//
// These are string alias types with Parse* constructors. They only verify syntax; they never resolve anything over the network.
package syntax
