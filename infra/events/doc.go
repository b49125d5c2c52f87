// Package events holds the in-process threshold event publishers and
// the wire encoding shared by every publisher.
package events
