package overlay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/long113112113/p2p-transfer/internal/auth"
)

const (
	iotEndpoint = "a10ofg7qwmr003-ats.iot.us-east-1.amazonaws.com"
	region      = "us-east-1"

	identityPoolEnv     = "P2P_IDENTITY_POOL_ID"
	defaultIdentityPool = "us-east-1:63825811-2a43-4a2b-893c-ce78d256819d"
)

type signalType string

const (
	signalOffer  signalType = "offer"
	signalAnswer signalType = "answer"
)

// signalMessage is exchanged over MQTT to carry one side's ICE credentials
// or a single discovered candidate; this channel never carries file bytes.
type signalMessage struct {
	Type      signalType `json:"type"`
	Ufrag     string     `json:"ufrag,omitempty"`
	Pwd       string     `json:"pwd,omitempty"`
	Candidate string     `json:"candidate,omitempty"`
}

func signalTopic(endpointID string) string {
	return "p2p-transfer/signal/" + endpointID
}

// signalingClient is a signed MQTT connection to AWS IoT Core, authenticated
// only as far as an unauthenticated Cognito identity goes: good enough to
// publish/subscribe, not an identity the rest of the system trusts.
type signalingClient struct {
	client mqtt.Client
}

func dialSignaling(ctx context.Context, clientID string) (*signalingClient, error) {
	poolID := os.Getenv(identityPoolEnv)
	if poolID == "" {
		poolID = defaultIdentityPool
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("overlay: loading base aws config: %w", err)
	}

	creds := auth.NewCognitoProvider(cfg, poolID)
	cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region), awsconfig.WithCredentialsProvider(creds))
	if err != nil {
		return nil, fmt.Errorf("overlay: loading aws config with cognito: %w", err)
	}

	resolved, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: retrieving aws credentials: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("wss://%s/mqtt", iotEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("overlay: building signaling handshake request: %w", err)
	}
	emptyBodyHash := hex.EncodeToString(sha256.New().Sum(nil))
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, resolved, req, emptyBodyHash, "iotdevicegateway", region, time.Now()); err != nil {
		return nil, fmt.Errorf("overlay: signing signaling handshake: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(req.URL.String()).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("overlay: connecting to signaling broker: %w", token.Error())
	}
	return &signalingClient{client: client}, nil
}

func (s *signalingClient) subscribe(topic string, handler mqtt.MessageHandler) error {
	if token := s.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("overlay: subscribing to %s: %w", topic, token.Error())
	}
	return nil
}

func (s *signalingClient) publish(topic string, payload []byte) error {
	if token := s.client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("overlay: publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (s *signalingClient) disconnect() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
