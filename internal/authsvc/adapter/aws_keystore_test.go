package adapter

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medlinkhq/auth-service/internal/domain/domaintest"
)

// --- Stubs ---

type stubSMClient struct {
	getSecretValueFn func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

func (s *stubSMClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return s.getSecretValueFn(ctx, params, optFns...)
}

type stubSSMClient struct {
	getParameterFn        func(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error)
	getParametersByPathFn func(ctx context.Context, params *awsssm.GetParametersByPathInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error)

	getParametersByPathCallCount int
}

func (s *stubSSMClient) GetParameter(ctx context.Context, params *awsssm.GetParameterInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
	return s.getParameterFn(ctx, params, optFns...)
}

func (s *stubSSMClient) GetParametersByPath(ctx context.Context, params *awsssm.GetParametersByPathInput, optFns ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
	s.getParametersByPathCallCount++
	return s.getParametersByPathFn(ctx, params, optFns...)
}

// --- Test Helpers ---

// testKeyPair generates an RSA key pair and returns PEM-encoded strings.
func testKeyPair(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privBytes := x509.MarshalPKCS1PrivateKey(privateKey)
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privBytes,
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return privateKey, string(privPEM), string(pubPEM)
}

// newValidKeyStubs creates SM and SSM stubs that return valid key data.
func newValidKeyStubs(t *testing.T, keyID, privPEM, pubPEM string) (*stubSMClient, *stubSSMClient) {
	t.Helper()

	sm := &stubSMClient{
		getSecretValueFn: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
			expectedSecret := smSigningKeyPrefix + keyID
			if aws.ToString(params.SecretId) != expectedSecret {
				return nil, fmt.Errorf("unexpected secret ID: %s", aws.ToString(params.SecretId))
			}
			return &secretsmanager.GetSecretValueOutput{
				SecretString: aws.String(privPEM),
			}, nil
		},
	}

	ssm := &stubSSMClient{
		getParameterFn: func(_ context.Context, params *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
			if aws.ToString(params.Name) != ssmCurrentKeyIDPath {
				return nil, fmt.Errorf("unexpected parameter name: %s", aws.ToString(params.Name))
			}
			return &awsssm.GetParameterOutput{
				Parameter: &ssmtypes.Parameter{
					Name:  aws.String(ssmCurrentKeyIDPath),
					Value: aws.String(keyID),
				},
			}, nil
		},
		getParametersByPathFn: func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
			return &awsssm.GetParametersByPathOutput{
				Parameters: []ssmtypes.Parameter{
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + keyID),
						Value: aws.String(pubPEM),
					},
				},
			}, nil
		},
	}

	return sm, ssm
}

func newKeyStoreClock() *domaintest.FakeClock {
	return domaintest.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
}

// --- Tests ---

func TestNewAWSKeyStore(t *testing.T) {
	t.Run("success with valid keys", func(t *testing.T) {
		expectedKey, privPEM, pubPEM := testKeyPair(t)
		keyID := "test-key-001"
		sm, ssm := newValidKeyStubs(t, keyID, privPEM, pubPEM)

		ks, err := NewAWSKeyStore(context.Background(), sm, ssm, newKeyStoreClock())

		require.NoError(t, err)
		require.NotNil(t, ks)
		assert.Equal(t, keyID, ks.currentKeyID)
		assert.True(t, expectedKey.Equal(ks.privateKey))
		assert.Len(t, ks.publicKeys, 1)
		assert.Contains(t, ks.publicKeys, keyID)
	})

	t.Run("multiple public keys", func(t *testing.T) {
		_, privPEM, pubPEM1 := testKeyPair(t)
		_, _, pubPEM2 := testKeyPair(t)
		keyID := "key-current"
		sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM1)

		ssmStub.getParametersByPathFn = func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
			return &awsssm.GetParametersByPathOutput{
				Parameters: []ssmtypes.Parameter{
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + "key-current"),
						Value: aws.String(pubPEM1),
					},
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + "key-old"),
						Value: aws.String(pubPEM2),
					},
				},
			}, nil
		}

		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, newKeyStoreClock())

		require.NoError(t, err)
		assert.Len(t, ks.publicKeys, 2)
		assert.Contains(t, ks.publicKeys, "key-current")
		assert.Contains(t, ks.publicKeys, "key-old")
	})
}

func TestNewAWSKeyStore_Errors(t *testing.T) {
	_, validPrivPEM, _ := testKeyPair(t)

	validSM := func() *stubSMClient {
		return &stubSMClient{
			getSecretValueFn: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(validPrivPEM)}, nil
			},
		}
	}
	validGetParameter := func(_ context.Context, _ *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
		return &awsssm.GetParameterOutput{
			Parameter: &ssmtypes.Parameter{
				Name:  aws.String(ssmCurrentKeyIDPath),
				Value: aws.String("key-1"),
			},
		}, nil
	}
	emptyByPath := func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
		return &awsssm.GetParametersByPathOutput{}, nil
	}

	tests := []struct {
		name    string
		sm      *stubSMClient
		ssm     *stubSSMClient
		wantErr string
	}{
		{
			name: "SSM GetParameter fails",
			sm:   validSM(),
			ssm: &stubSSMClient{
				getParameterFn: func(_ context.Context, _ *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
					return nil, fmt.Errorf("ssm unavailable")
				},
				getParametersByPathFn: emptyByPath,
			},
			wantErr: "fetching current key ID from SSM",
		},
		{
			name: "SSM parameter has nil value",
			sm:   validSM(),
			ssm: &stubSSMClient{
				getParameterFn: func(_ context.Context, _ *awsssm.GetParameterInput, _ ...func(*awsssm.Options)) (*awsssm.GetParameterOutput, error) {
					return &awsssm.GetParameterOutput{
						Parameter: &ssmtypes.Parameter{Name: aws.String(ssmCurrentKeyIDPath)},
					}, nil
				},
				getParametersByPathFn: emptyByPath,
			},
			wantErr: "has no value",
		},
		{
			name: "Secrets Manager unavailable",
			sm: &stubSMClient{
				getSecretValueFn: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return nil, fmt.Errorf("secrets manager unavailable")
				},
			},
			ssm: &stubSSMClient{
				getParameterFn:        validGetParameter,
				getParametersByPathFn: emptyByPath,
			},
			wantErr: "fetching signing key",
		},
		{
			name: "invalid private key PEM",
			sm: &stubSMClient{
				getSecretValueFn: func(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					return &secretsmanager.GetSecretValueOutput{SecretString: aws.String("not-a-pem")}, nil
				},
			},
			ssm: &stubSSMClient{
				getParameterFn:        validGetParameter,
				getParametersByPathFn: emptyByPath,
			},
			wantErr: "parsing private key",
		},
		{
			name: "SSM GetParametersByPath fails",
			sm:   validSM(),
			ssm: &stubSSMClient{
				getParameterFn: validGetParameter,
				getParametersByPathFn: func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
					return nil, fmt.Errorf("ssm path unavailable")
				},
			},
			wantErr: "loading public keys from SSM",
		},
		{
			name: "invalid public key PEM in SSM",
			sm:   validSM(),
			ssm: &stubSSMClient{
				getParameterFn: validGetParameter,
				getParametersByPathFn: func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
					return &awsssm.GetParametersByPathOutput{
						Parameters: []ssmtypes.Parameter{
							{
								Name:  aws.String(ssmPublicKeysPathPrefix + "bad-key"),
								Value: aws.String("not-a-pem"),
							},
						},
					}, nil
				},
			},
			wantErr: "parsing public key for kid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, err := NewAWSKeyStore(context.Background(), tt.sm, tt.ssm, newKeyStoreClock())

			require.Error(t, err)
			assert.Nil(t, ks)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAWSKeyStore_SigningKey(t *testing.T) {
	expectedKey, privPEM, pubPEM := testKeyPair(t)
	keyID := "signing-key-001"
	sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM)
	ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, newKeyStoreClock())
	require.NoError(t, err)

	pk, kid, err := ks.SigningKey()

	require.NoError(t, err)
	assert.Equal(t, keyID, kid)
	assert.True(t, expectedKey.Equal(pk))
}

func TestAWSKeyStore_PublicKey(t *testing.T) {
	t.Run("found in cache returns immediately", func(t *testing.T) {
		expectedKey, privPEM, pubPEM := testKeyPair(t)
		keyID := "pub-key-001"
		sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM)
		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, newKeyStoreClock())
		require.NoError(t, err)

		initialCallCount := ssmStub.getParametersByPathCallCount

		pk, err := ks.PublicKey(keyID)

		require.NoError(t, err)
		assert.True(t, expectedKey.PublicKey.Equal(pk))
		assert.Equal(t, initialCallCount, ssmStub.getParametersByPathCallCount,
			"cache hit must not touch SSM")
	})

	t.Run("unknown kid outside cooldown triggers SSM refresh", func(t *testing.T) {
		_, privPEM, pubPEM := testKeyPair(t)
		newKey, _, newPubPEM := testKeyPair(t)
		keyID := "key-original"
		newKeyID := "key-rotated"
		sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM)
		clock := newKeyStoreClock()
		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, clock)
		require.NoError(t, err)

		clock.Advance(31 * time.Second)

		ssmStub.getParametersByPathFn = func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
			return &awsssm.GetParametersByPathOutput{
				Parameters: []ssmtypes.Parameter{
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + keyID),
						Value: aws.String(pubPEM),
					},
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + newKeyID),
						Value: aws.String(newPubPEM),
					},
				},
			}, nil
		}

		pk, err := ks.PublicKey(newKeyID)

		require.NoError(t, err)
		assert.True(t, newKey.PublicKey.Equal(pk))
	})

	t.Run("unknown kid within cooldown fails without SSM call", func(t *testing.T) {
		_, privPEM, pubPEM := testKeyPair(t)
		keyID := "key-001"
		sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM)
		clock := newKeyStoreClock()
		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, clock)
		require.NoError(t, err)

		// First unknown-kid lookup outside the cooldown starts the window.
		clock.Advance(31 * time.Second)
		_, _ = ks.PublicKey("nonexistent-kid-1")

		callCountAfterFirstRefresh := ssmStub.getParametersByPathCallCount
		clock.Advance(10 * time.Second)

		pk, err := ks.PublicKey("nonexistent-kid-2")

		require.Error(t, err)
		assert.Nil(t, pk)
		assert.Contains(t, err.Error(), "cooldown active")
		assert.Equal(t, callCountAfterFirstRefresh, ssmStub.getParametersByPathCallCount)
	})

	t.Run("cache TTL expired triggers refresh", func(t *testing.T) {
		_, privPEM, pubPEM := testKeyPair(t)
		newKey, _, newPubPEM := testKeyPair(t)
		keyID := "key-001"
		newKeyID := "key-002"
		sm, ssmStub := newValidKeyStubs(t, keyID, privPEM, pubPEM)
		clock := newKeyStoreClock()
		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, clock)
		require.NoError(t, err)

		initialCallCount := ssmStub.getParametersByPathCallCount
		clock.Advance(301 * time.Second)

		ssmStub.getParametersByPathFn = func(_ context.Context, _ *awsssm.GetParametersByPathInput, _ ...func(*awsssm.Options)) (*awsssm.GetParametersByPathOutput, error) {
			return &awsssm.GetParametersByPathOutput{
				Parameters: []ssmtypes.Parameter{
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + keyID),
						Value: aws.String(pubPEM),
					},
					{
						Name:  aws.String(ssmPublicKeysPathPrefix + newKeyID),
						Value: aws.String(newPubPEM),
					},
				},
			}, nil
		}

		pk, err := ks.PublicKey(keyID)

		require.NoError(t, err)
		assert.NotNil(t, pk)
		assert.Greater(t, ssmStub.getParametersByPathCallCount, initialCallCount)

		pk2, err := ks.PublicKey(newKeyID)
		require.NoError(t, err)
		assert.True(t, newKey.PublicKey.Equal(pk2))
	})

	t.Run("unknown kid after refresh returns error", func(t *testing.T) {
		_, privPEM, pubPEM := testKeyPair(t)
		sm, ssmStub := newValidKeyStubs(t, "key-001", privPEM, pubPEM)
		clock := newKeyStoreClock()
		ks, err := NewAWSKeyStore(context.Background(), sm, ssmStub, clock)
		require.NoError(t, err)

		clock.Advance(31 * time.Second)

		pk, err := ks.PublicKey("totally-nonexistent")

		require.Error(t, err)
		assert.Nil(t, pk)
		assert.Contains(t, err.Error(), `unknown key ID "totally-nonexistent"`)
	})
}

func TestParseRSAPrivateKey(t *testing.T) {
	t.Run("PKCS1 format", func(t *testing.T) {
		expectedKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		pemStr := string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(expectedKey),
		}))

		key, err := parseRSAPrivateKey(pemStr)

		require.NoError(t, err)
		assert.True(t, expectedKey.Equal(key))
	})

	t.Run("PKCS8 format", func(t *testing.T) {
		expectedKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		privBytes, err := x509.MarshalPKCS8PrivateKey(expectedKey)
		require.NoError(t, err)
		pemStr := string(pem.EncodeToMemory(&pem.Block{
			Type:  "PRIVATE KEY",
			Bytes: privBytes,
		}))

		key, err := parseRSAPrivateKey(pemStr)

		require.NoError(t, err)
		assert.True(t, expectedKey.Equal(key))
	})

	t.Run("no PEM block", func(t *testing.T) {
		key, err := parseRSAPrivateKey("not-pem-data")

		require.Error(t, err)
		assert.Nil(t, key)
		assert.Contains(t, err.Error(), "no PEM block found")
	})
}

func TestParseRSAPublicKey(t *testing.T) {
	t.Run("valid PKIX format", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		require.NoError(t, err)
		pemStr := string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		}))

		key, err := parseRSAPublicKey(pemStr)

		require.NoError(t, err)
		assert.True(t, privateKey.PublicKey.Equal(key))
	})

	t.Run("corrupted PEM data", func(t *testing.T) {
		pemStr := string(pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: []byte("corrupted-data"),
		}))

		key, err := parseRSAPublicKey(pemStr)

		require.Error(t, err)
		assert.Nil(t, key)
		assert.Contains(t, err.Error(), "parsing PKIX public key")
	})
}
