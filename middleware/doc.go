// Package middleware guards resource-server routes with access tokens issued
// by goIdP.Engine.
//
//   - [Guard] requires a valid bearer access token.
//   - [RequireScope] additionally requires scopes from the scope claim.
//   - [RequireRole] additionally requires one of a set of roles.
//
// Token verification is delegated to a [TokenParser]; this package never
// touches keys or Redis itself.
package middleware
