package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakglass-service/internal/handler"
	"breakglass-service/internal/threshold"
	"breakglass-service/internal/usecase"
	"breakglass-service/internal/vault"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHolderList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/holders", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("generation"))
		writeJSON(w, http.StatusOK, handler.HolderListResponse{Holders: []handler.HolderResponse{
			{ID: "h1", Generation: 2, Identity: "alice", Ordinal: 1, Status: "active"},
		}})
	}))
	defer srv.Close()

	out, err := runCLI(t, "--api-url", srv.URL, "holder", "list", "--generation", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "active")

	out, err = runCLI(t, "--api-url", srv.URL, "--output", "json", "holder", "list", "--generation", "2")
	require.NoError(t, err)
	var resp handler.HolderListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Holders, 1)
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"code": "ACTIVATION_CLOSED", "message": "activation is closed"})
	}))
	defer srv.Close()

	_, err := runCLI(t, "--api-url", srv.URL, "activation", "cancel", "a1", "--by", "ops", "--reason", "false alarm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACTIVATION_CLOSED")
	assert.Contains(t, err.Error(), "activation is closed")
}

func TestActivationSign_DecryptsLocally(t *testing.T) {
	dir := t.TempDir()
	identityFile := filepath.Join(dir, "holder.key")
	recipient, err := runCLI(t, "keygen", "--out", identityFile)
	require.NoError(t, err)
	recipient = strings.TrimSpace(recipient)

	share := []byte("plaintext-share-bytes")
	ciphertext, err := threshold.EncryptShareForHolder(share, recipient)
	require.NoError(t, err)

	var submitted handler.SubmitSignatureRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/holders/h1/share":
			writeJSON(w, http.StatusOK, handler.EncryptedShareResponse{HolderID: "h1", EncryptedShare: ciphertext})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/activations/a1/signatures":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			writeJSON(w, http.StatusCreated, handler.SignatureResultResponse{Slot: 2, SignaturesReceived: 2, Status: "authorized", QuorumReached: true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, "--api-url", srv.URL, "activation", "sign", "a1", "--holder", "h1", "--identity", identityFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Quorum reached")
	assert.Equal(t, "h1", submitted.HolderID)
	assert.Equal(t, share, submitted.Share)
}

func TestActivationSign_RequiresShareSource(t *testing.T) {
	_, err := runCLI(t, "--api-url", "http://127.0.0.1:0", "activation", "sign", "a1", "--holder", "h1")
	require.Error(t, err)
}

func TestOfflineCeremony(t *testing.T) {
	ctx := context.Background()
	store, err := vault.NewFileStore(t.TempDir())
	require.NoError(t, err)
	v := vault.New(store, t.TempDir())

	keys := make([]*threshold.HolderKey, 3)
	enrollments := make([]usecase.Enrollment, 3)
	for i := range keys {
		keys[i], err = threshold.GenerateHolderKey()
		require.NoError(t, err)
		enrollments[i] = usecase.Enrollment{
			Identity:        []string{"alice", "bob", "carol"}[i],
			RecipientKey:    keys[i].Recipient,
			ContactChannels: []string{"log:holder"},
		}
	}

	shares, err := runOfflineCeremony(ctx, v, 1, 2, enrollments)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	// 任意の2片で封印した保管庫を開封できる
	var plain [][]byte
	for _, i := range []int{0, 2} {
		p, err := threshold.DecryptShare(shares[i].EncryptedShare, keys[i].Identity)
		require.NoError(t, err)
		assert.True(t, threshold.VerifyFingerprint(p, shares[i].Fingerprint))
		plain = append(plain, p)
	}
	secret, err := threshold.Combine(plain, 2)
	require.NoError(t, err)
	h, err := v.Unlock(ctx, 1, secret)
	require.NoError(t, err)
	h.Close()

	// 同じ世代は再封印できない
	_, err = runOfflineCeremony(ctx, v, 1, 2, enrollments)
	assert.ErrorIs(t, err, vault.ErrAlreadySealed)
}

func TestDecryptWithIdentityFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.key")
	require.NoError(t, os.WriteFile(path, []byte("# comment only\n"), 0o600))
	_, err := decryptWithIdentityFile([]byte("x"), path)
	assert.Error(t, err)
}
