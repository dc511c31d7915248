// Package cli is the interactive keeperauth client: a small REPL over
// services.Session. Passwords are read without echo through x/term.
package cli
