package signer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppID     = "app-1"
	testAppSecret = "secret-1"
	testWalletID  = "wallet-1"
)

var (
	custodyTxHash  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	custodyAddress = "0x5555555555555555555555555555555555555555"
	testTokenAddr  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testRecipient  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func custodyServer(t *testing.T, onTransfer func(custodyTransferRequest) (int, custodyTransferResponse)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	checkAuth := func(w http.ResponseWriter, r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testAppID || pass != testAppSecret {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("POST /v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		var request custodyTransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		status, response := onTransfer(request)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("GET /v1/wallets/"+testWalletID, func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"address": custodyAddress})
	})
	mux.HandleFunc("GET /v1/wallets/"+testWalletID+"/balance", func(w http.ResponseWriter, r *http.Request) {
		if !checkAuth(w, r) {
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"balance": "123456"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func transferInput(amount int64) TransferInput {
	return TransferInput{
		Token:     testTokenAddr,
		Recipient: testRecipient,
		Amount:    big.NewInt(amount),
	}
}

func TestRemoteCustodySigner_SubmitTransfer(t *testing.T) {
	var seen custodyTransferRequest
	server := custodyServer(t, func(request custodyTransferRequest) (int, custodyTransferResponse) {
		seen = request
		return http.StatusOK, custodyTransferResponse{TxHash: custodyTxHash}
	})

	s := NewRemoteCustodySigner(server.URL, testAppID, testAppSecret, testWalletID)

	txHash, err := s.SubmitTransfer(context.Background(), transferInput(5000))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(custodyTxHash), txHash)
	assert.Equal(t, testWalletID, seen.WalletID)
	assert.Equal(t, "5000", seen.Amount)
	assert.Equal(t, testRecipient.Hex(), seen.Recipient)
	assert.False(t, seen.SponsorFees)
}

func TestRemoteCustodySigner_SponsorshipRejectedRetriesOnce(t *testing.T) {
	var calls []bool
	server := custodyServer(t, func(request custodyTransferRequest) (int, custodyTransferResponse) {
		calls = append(calls, request.SponsorFees)
		if request.SponsorFees {
			return http.StatusPaymentRequired, custodyTransferResponse{
				Error: "gas sponsorship declined for this wallet",
				Code:  custodyCodeSponsorshipRejected,
			}
		}
		return http.StatusOK, custodyTransferResponse{TxHash: custodyTxHash}
	})

	s := NewRemoteCustodySigner(server.URL, testAppID, testAppSecret, testWalletID, WithSponsorFees())

	txHash, err := s.SubmitTransfer(context.Background(), transferInput(5000))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(custodyTxHash), txHash)
	require.Len(t, calls, 2)
	assert.True(t, calls[0], "first attempt should request sponsorship")
	assert.False(t, calls[1], "retry should drop sponsorship")
}

func TestRemoteCustodySigner_OtherErrorsNotRetried(t *testing.T) {
	attempts := 0
	server := custodyServer(t, func(request custodyTransferRequest) (int, custodyTransferResponse) {
		attempts++
		return http.StatusBadRequest, custodyTransferResponse{Error: "insufficient funds", Code: "insufficient_funds"}
	})

	s := NewRemoteCustodySigner(server.URL, testAppID, testAppSecret, testWalletID, WithSponsorFees())

	_, err := s.SubmitTransfer(context.Background(), transferInput(5000))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRemoteCustodySigner_ResolveAddressCaches(t *testing.T) {
	server := custodyServer(t, nil)
	s := NewRemoteCustodySigner(server.URL, testAppID, testAppSecret, testWalletID)

	addr, err := s.ResolveAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(custodyAddress), addr)

	server.Close() // cached: no further network call needed
	addr, err = s.ResolveAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(custodyAddress), addr)
}

func TestRemoteCustodySigner_GetBalance(t *testing.T) {
	server := custodyServer(t, nil)
	s := NewRemoteCustodySigner(server.URL, testAppID, testAppSecret, testWalletID)

	balance, err := s.GetBalance(context.Background(), testTokenAddr)
	require.NoError(t, err)
	assert.Equal(t, "123456", balance.String())
}

func TestRemoteCustodySigner_NoBatchSupport(t *testing.T) {
	s := NewRemoteCustodySigner("http://localhost", testAppID, testAppSecret, testWalletID)
	assert.False(t, s.SupportsBatch())

	_, err := s.SubmitBatchTransfer(context.Background(), []TransferInput{transferInput(1)})
	assert.ErrorIs(t, err, ErrBatchUnsupported)
}

func TestRemoteCustodySigner_BadCredentials(t *testing.T) {
	server := custodyServer(t, func(request custodyTransferRequest) (int, custodyTransferResponse) {
		return http.StatusOK, custodyTransferResponse{TxHash: custodyTxHash}
	})

	s := NewRemoteCustodySigner(server.URL, testAppID, "wrong-secret", testWalletID)
	_, err := s.SubmitTransfer(context.Background(), transferInput(5000))
	require.Error(t, err)
}
