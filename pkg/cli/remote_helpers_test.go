package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRemoteURL(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		wantErr bool
	}{
		{name: "valid grpc", remote: "grpc://127.0.0.1:31337"},
		{name: "valid grpcs", remote: "grpcs://engine.example.com:443"},
		{name: "missing scheme", remote: "localhost:31337", wantErr: true},
		{name: "http scheme", remote: "http://localhost:31337", wantErr: true},
		{name: "bogus scheme", remote: "://bad", wantErr: true},
		{name: "empty", remote: "", wantErr: true},
		{name: "path not allowed", remote: "grpc://localhost:31337/v1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRemoteURL(tt.remote)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
