package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfigureLogLevelFromEnv(t *testing.T) {
	testCases := []struct {
		envVal      string
		expectedLvl zerolog.Level
	}{
		{"false", zerolog.Disabled},
		{"0", zerolog.Disabled},
		{"", zerolog.Disabled},
		{"true", zerolog.DebugLevel},
		{"1", zerolog.DebugLevel},
		{"random", zerolog.DebugLevel},
	}

	for _, tc := range testCases {
		t.Setenv("DEBUG_APSQ", tc.envVal)
		configureLogLevelFromEnv()
		if zerolog.GlobalLevel() != tc.expectedLvl {
			t.Errorf("DEBUG_APSQ=%q: expected log level %v, got %v",
				tc.envVal, tc.expectedLvl, zerolog.GlobalLevel())
		}
	}
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestHandleInterrupt(t *testing.T) {
	stopChan := make(chan os.Signal, 2)
	ctx, cancel := context.WithCancel(context.Background())
	fatalCalled := make(chan string, 1)

	go handleInterrupt(stopChan, cancel, func(msg string) { fatalCalled <- msg })

	stopChan <- os.Interrupt
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("first interrupt did not cancel the context")
	}

	select {
	case <-fatalCalled:
		t.Fatal("first interrupt must not exit")
	default:
	}

	stopChan <- os.Interrupt
	select {
	case msg := <-fatalCalled:
		if msg != "Second interrupt signal received. Exiting..." {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(time.Second):
		t.Error("second interrupt did not exit")
	}
}

func TestSetupInterruptListener(t *testing.T) {
	stopChan := setupInterruptListener()
	if stopChan == nil {
		t.Fatal("expected non-nil channel from setupInterruptListener")
	}
	if cap(stopChan) < 2 {
		t.Errorf("expected room for two signals, got %d", cap(stopChan))
	}
}
