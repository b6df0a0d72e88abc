// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addModule is a version-0xc module exporting add(i32, i32) -> i32.
func addModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x0c, 0x00, 0x00, 0x00,
		// Type: (i32, i32) -> i32
		0x01, 0x07, 0x01, 0x20, 0x02, 0x01, 0x01, 0x01, 0x01,
		// Function: one body with type 0
		0x03, 0x02, 0x01, 0x00,
		// Export: "add" -> function 0
		0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
		// Code: get_local 0; get_local 1; i32.add; end
		0x0a, 0x09, 0x01, 0x07, 0x00, 0x14, 0x00, 0x14, 0x01, 0x40, 0x0f,
	}
}

func invokeRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodPost, "/rpc", nil)
	return req
}

func TestInvokeInlineModule(t *testing.T) {
	srv := NewServer(Config{})

	req := &InvokeRequest{
		ModuleB64: base64.StdEncoding.EncodeToString(addModule()),
		Entry:     "add",
		Args:      []string{"2", "3"},
	}
	resp := &InvokeResponse{}
	err := srv.Invoke(invokeRequest(), req, resp)
	require.NoError(t, err)
	assert.Empty(t, resp.Trap)
	assert.Equal(t, "0x5:i32", resp.Result)
}

func TestInvokeTrapReported(t *testing.T) {
	srv := NewServer(Config{})

	req := &InvokeRequest{
		ModuleB64: base64.StdEncoding.EncodeToString(addModule()),
		Entry:     "missing",
	}
	resp := &InvokeResponse{}
	err := srv.Invoke(invokeRequest(), req, resp)
	require.NoError(t, err)
	assert.Contains(t, resp.Trap, "UnknownExport")
}

func TestInvokeRequiresModule(t *testing.T) {
	srv := NewServer(Config{})
	err := srv.Invoke(invokeRequest(), &InvokeRequest{Entry: "main"}, &InvokeResponse{})
	assert.Error(t, err)
}

func TestInvokeAuth(t *testing.T) {
	srv := NewServer(Config{AuthToken: "s3cret"})

	req := invokeRequest()
	err := srv.Invoke(req, &InvokeRequest{}, &InvokeResponse{})
	assert.EqualError(t, err, "unauthorized")

	req.Header.Set("Authorization", "Bearer s3cret")
	err = srv.Invoke(req, &InvokeRequest{
		ModuleB64: base64.StdEncoding.EncodeToString(addModule()),
		Entry:     "add",
		Args:      []string{"1", "1"},
	}, &InvokeResponse{})
	assert.NoError(t, err)
}
