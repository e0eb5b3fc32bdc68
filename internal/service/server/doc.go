// Package server assembles the alarm panel process: storage, the panel and
// its rule engine, entity ingest, gateways and the gRPC and metrics listeners.
package server
