// Package alarm implements the gRPC transport for the alarm panel.
//
// Messages are protobuf Struct values shaped by the domain JSON tags, so the
// service is declared by hand instead of generated from a .proto file.
package alarm
