// Package journal persists mqttlink traffic and connection history in SQLite.
//
// A Recorder subscribes to the MQTT client's events and writes them through
// a Repository on a background goroutine, so slow disk I/O never stalls
// message routing. When the write buffer is full, entries are dropped and
// counted rather than blocking the caller.
package journal
