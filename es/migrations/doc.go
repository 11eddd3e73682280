// Package migrations generates the SQL schema of the commit store.
//
// To write a migration file, use the migrate command:
//
//	pupstore migrate --dialect postgres --output migrations
//
// The SQL engine applies the same statements itself when Initialize is called,
// so generated files are only needed when migrations are managed externally.
package migrations
