// Package app contains the core application logic: loading a scenario,
// declaring its topology on the broker and driving the publish and consume
// steps to completion. It is decoupled from any specific entrypoint like a
// CLI or server.
package app
