// Unit tests for the encoding buffer pool
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"bytes"
	"math"
	"sync"
	"testing"
)

func TestBufferPool(t *testing.T) {
	b := GetBuffer()
	if b == nil {
		t.Fatal("GetBuffer returned nil")
	}
	b.WriteString("stale")
	PutBuffer(b)

	b = GetBuffer()
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %q", b.String())
	}
	PutBuffer(b)

	// Neither of these may panic.
	PutBuffer(nil)
	PutBuffer(bytes.NewBuffer(make([]byte, 0, 2*maxPooled)))
}

func TestEncodeJSON(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		indent string
		want   string
	}{
		{"compact", map[string]int{"n": 1}, "", "{\"n\":1}\n"},
		{"indented", map[string]int{"n": 1}, "  ", "{\n  \"n\": 1\n}\n"},
		{"no html escaping", "a<b", "", "\"a<b\"\n"},
		{"slice", []float64{0.5, -1}, "", "[0.5,-1]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeJSON(tt.value, tt.indent)
			if err != nil {
				t.Fatalf("EncodeJSON: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeJSONError(t *testing.T) {
	if _, err := EncodeJSON(math.NaN(), ""); err == nil {
		t.Error("expected error for NaN")
	}
	if _, err := EncodeJSON(make(chan int), ""); err == nil {
		t.Error("expected error for channel")
	}
}

func TestEncodeJSONDoesNotAlias(t *testing.T) {
	first, err := EncodeJSON("first", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := EncodeJSON("second value overwriting", ""); err != nil {
			t.Fatal(err)
		}
	}
	if string(first) != "\"first\"\n" {
		t.Errorf("result changed after reuse: %q", first)
	}
}

func TestEncodeJSONConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := EncodeJSON([]int{n}, "")
			if err != nil {
				t.Error(err)
				return
			}
			want, _ := EncodeJSON([]int{n}, "")
			if !bytes.Equal(got, want) {
				t.Errorf("got %q, want %q", got, want)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkEncodeJSON(b *testing.B) {
	values := make([]float64, 64)
	for i := range values {
		values[i] = float64(i) * 0.001
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EncodeJSON(values, "")
	}
}
