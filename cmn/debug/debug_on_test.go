//go:build debug

/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import "testing"

func TestAssertPanicsOnFalse(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Assert(false, ...) to panic")
		}
	}()
	Assert(false, "state-machine transition should be illegal here")
}

func TestAssertDoesNotPanicOnTrue(t *testing.T) {
	Assert(true, "legal transition")
}

func TestONReportsTrue(t *testing.T) {
	if !ON() {
		t.Fatal("ON() should report true in a debug build")
	}
}
