// Package check contains the verification stages of deliverkit.
// The static stages (SyntaxChecker, DisposableChecker, RoleChecker) never
// touch the network. MXResolver, SMTPProbe and CatchAllDetector share a
// domaincache.Store so a domain is resolved and classified once per run.
// The recommended entry point is the fluent builder of the
// github.com/optimode/deliverkit package.
package check
