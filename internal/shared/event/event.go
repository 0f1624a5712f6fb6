// Package event holds the payloads exchanged over the broker between modules.
//
// Each event declares the destination it is published to and the subscription
// names of its consumers; consumers are enabled per name through configuration.
package event
