// Package password hashes and verifies user passwords and checks them
// against the configured policy.
//
// # Output format
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hasher also verifies bcrypt hashes of accounts imported from earlier
// deployments and reports them as needing an upgrade, so the engine re-hashes
// them on the next successful sign in.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other goIdP package.
//   - Log plaintext passwords.
package password
