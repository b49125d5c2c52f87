package config

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ByteSize is a byte count written in human form ("32MiB", "1 GB").
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Set implements flag.Value.
func (b *ByteSize) Set(s string) error {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid byte size %q", s)
	}
	*b = ByteSize(v)
	return nil
}

func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return b.Set(s)
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// StringList is a comma separated flag value.
type StringList []string

func (l StringList) String() string {
	return strings.Join(l, ",")
}

func (l *StringList) Set(s string) error {
	*l = nil
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}
