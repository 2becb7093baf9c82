// Package audit delivers the identity provider's audit trail.
//
// The engine builds an [Event] for each sign-in step, token grant and
// account change and hands it to a [Dispatcher], which queues it and feeds
// a [Sink] from one goroutine. Sinks shipped here write JSON lines, zap
// entries, or a channel; [MultiSink] fans out to several.
//
// The package decides nothing about which events exist. It must not import
// goIdP or any sibling internal package.
package audit
