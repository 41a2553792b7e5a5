//go:build !darwin

package kperf

import "errors"

// The private frameworks only exist on darwin. Everything above the binding
// still compiles here so it can be exercised against fakes.

func (b *Binding) load() error {
	return &LoadError{Lib: "kperf.framework", Err: errors.New("not available on this platform")}
}

func (b *Binding) unload() {
	*b = Binding{}
}
