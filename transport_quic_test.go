package chanbus

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCertificate(t testing.TB) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)

	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(certPEM)

	return cert, certPool
}

func TestQUICConnection(t *testing.T) {
	t.Run("listener address", func(t *testing.T) {
		cert, _ := generateTestCertificate(t)

		serverTLS := &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicALPN},
		}

		listener, err := NewQUICListener("127.0.0.1:0", serverTLS, nil)
		require.NoError(t, err)
		defer listener.Close()

		assert.NotNil(t, listener.Addr())
	})

	t.Run("listener requires TLS", func(t *testing.T) {
		_, err := NewQUICListener("127.0.0.1:0", nil, nil)
		assert.ErrorIs(t, err, ErrTLSRequired)
	})

	t.Run("listener upgrades TLS version and ALPN", func(t *testing.T) {
		cert, _ := generateTestCertificate(t)

		serverTLS := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		listener, err := NewQUICListener("127.0.0.1:0", serverTLS, nil)
		require.NoError(t, err)
		defer listener.Close()
	})

	t.Run("listener rejects invalid address", func(t *testing.T) {
		cert, _ := generateTestCertificate(t)

		serverTLS := &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicALPN},
		}

		_, err := NewQUICListener("invalid-address-not-ip:port", serverTLS, nil)
		assert.Error(t, err)
	})

	t.Run("dial context cancel", func(t *testing.T) {
		clientTLS := &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{quicALPN},
		}
		dialer := NewQUICDialer(clientTLS)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := dialer.Dial(ctx, "127.0.0.1:1234")
		assert.Error(t, err)
	})

	t.Run("dial nonexistent server", func(t *testing.T) {
		clientTLS := &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{quicALPN},
		}
		dialer := NewQUICDialer(clientTLS)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := dialer.Dial(ctx, "127.0.0.1:59999")
		assert.Error(t, err)
	})

	t.Run("dialer with nil TLS config uses default", func(t *testing.T) {
		dialer := NewQUICDialer(nil)
		assert.NotNil(t, dialer.TLSConfig)
		assert.Equal(t, uint16(tls.VersionTLS13), dialer.TLSConfig.MinVersion)
		assert.Contains(t, dialer.TLSConfig.NextProtos, quicALPN)
	})
}

func TestQUICRoundTrip(t *testing.T) {
	cert, certPool := generateTestCertificate(t)

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}

	listener, err := NewQUICListener("127.0.0.1:0", serverTLS, nil)
	require.NoError(t, err)
	defer listener.Close()

	clientDone := make(chan struct{})
	serverDone := make(chan error, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			serverDone <- acceptErr
			return
		}

		frame, readErr := conn.ReadFrame()
		if readErr != nil {
			conn.Close()
			serverDone <- readErr
			return
		}

		if frame == PingFrame {
			_ = conn.WriteFrame(PongFrame)
		}

		// Wait for client to finish before closing
		<-clientDone
		conn.Close()
		serverDone <- nil
	}()

	clientTLS := &tls.Config{
		RootCAs:            certPool,
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	dialer := NewQUICDialer(clientTLS)
	conn, err := dialer.Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)

	require.NoError(t, conn.WriteFrame(PingFrame))

	frame, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, PongFrame, frame)

	close(clientDone)
	conn.Close()

	select {
	case serverErr := <-serverDone:
		require.NoError(t, serverErr)
	case <-time.After(10 * time.Second):
		t.Fatal("server timed out")
	}
}

func TestQUICDialerEmptyALPN(t *testing.T) {
	cert, certPool := generateTestCertificate(t)

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}

	listener, err := NewQUICListener("127.0.0.1:0", serverTLS, nil)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, aerr := listener.Accept()
		if aerr == nil {
			time.Sleep(100 * time.Millisecond)
			conn.Close()
		}
	}()

	clientTLS := &tls.Config{
		RootCAs:            certPool,
		InsecureSkipVerify: true,
		NextProtos:         []string{},
	}
	dialer := &QUICDialer{TLSConfig: clientTLS}

	conn, err := dialer.Dial(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	assert.NotNil(t, conn)
	conn.Close()
}

func TestServerOverQUIC(t *testing.T) {
	cert, certPool := generateTestCertificate(t)

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}

	lis, err := NewQUICListener("127.0.0.1:0", serverTLS, nil)
	require.NoError(t, err)

	srv := NewServer(WithHeartbeatDisabled(), WithListener(lis))
	defer srv.Close()
	require.NoError(t, srv.CreateChannel("chat"))

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ListenAndServe()
	}()

	clientTLS := &tls.Config{
		RootCAs:            certPool,
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	url := "quic://" + lis.Addr().String()

	received := make(chan any, 1)
	alice, err := Dial(t.Context(), url, WithTLS(clientTLS))
	require.NoError(t, err)
	defer alice.Close()

	bob, err := Dial(t.Context(), url, WithTLS(clientTLS))
	require.NoError(t, err)
	defer bob.Close()

	require.NoError(t, bob.Listen("chat", func(message any) {
		received <- message
	}))
	require.Eventually(t, func() bool {
		targets, _ := srv.registry.SnapshotTargets("chat")
		return len(targets) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, alice.Emit("chat", map[string]any{"text": "over quic"}))

	select {
	case message := <-received:
		payload := message.(map[string]any)
		assert.Equal(t, "over quic", payload["text"])
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}

	srv.Close()
	assert.ErrorIs(t, <-serveDone, ErrServerClosed)
}
