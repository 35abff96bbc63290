// Package core contains the credential lifecycle domain: service kinds,
// workspaces, credential envelopes, and the components that resolve client
// identities, run the authorization-code flow, persist links, and refresh
// tokens. Storage, provider wire, and transport adapters depend on this
// package; core must not depend on them.
package core
