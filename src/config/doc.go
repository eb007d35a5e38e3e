// Package config defines the configuration for a commonsync node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key.enc // the encrypted private key (cf. commonsync keygen).
//  secret.key // the envelope secret protecting priv_key.enc.
//  key_meta.json // an append-only record of key generations.
//  trust.json // a JSON file seeding the trust registry with anchors.
//  audit.log // the hash-chained audit log, one JSON entry per line.
package config
