// Package providers contains the OAuth2 token client used against the
// provider endpoints of every service kind.
//
// Kind descriptors live in the google subpackages; see google/gmail,
// google/drive and google/docs.
package providers
