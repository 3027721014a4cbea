package utils

import (
	"github.com/nats-io/nats.go"
)

// StreamConfigEqual compares two NATS stream configurations for equality
// Focuses on core properties only
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	isCfgSame := a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage

	if len(a.Subjects) != len(b.Subjects) {
		return false
	}
	for i, subject := range a.Subjects {
		if subject != b.Subjects[i] {
			return false
		}
	}

	return isCfgSame
}

// ConsumerConfigEqual compares two NATS consumer configurations for equality
// Focuses on core properties only
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	isCfgSame := a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.FilterSubject == b.FilterSubject &&
		a.MaxDeliver == b.MaxDeliver

	if len(a.FilterSubjects) != len(b.FilterSubjects) {
		return false
	}
	for i, subject := range a.FilterSubjects {
		if subject != b.FilterSubjects[i] {
			return false
		}
	}

	return isCfgSame
}
