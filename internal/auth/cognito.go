// Package auth provides the anonymous AWS identity the overlay's signaling
// channel authenticates with: just enough to publish/subscribe on IoT Core,
// never an identity the rest of the system extends any trust to.
package auth

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
)

// CognitoProvider implements aws.CredentialsProvider over an unauthenticated
// Cognito Identity Pool.
type CognitoProvider struct {
	client         *cognitoidentity.Client
	identityPoolID string
	identityID     string
}

// NewCognitoProvider exchanges an identity pool id for short-lived,
// unauthenticated AWS credentials.
func NewCognitoProvider(cfg aws.Config, poolID string) *CognitoProvider {
	return &CognitoProvider{
		client:         cognitoidentity.NewFromConfig(cfg),
		identityPoolID: poolID,
	}
}

// Retrieve implements aws.CredentialsProvider. The identity id is cached
// across calls since it is stable; the credentials it backs are not.
func (p *CognitoProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	if p.identityID == "" {
		out, err := p.client.GetId(ctx, &cognitoidentity.GetIdInput{
			IdentityPoolId: aws.String(p.identityPoolID),
		})
		if err != nil {
			return aws.Credentials{}, fmt.Errorf("auth: resolving cognito identity: %w", err)
		}
		p.identityID = *out.IdentityId
	}

	out, err := p.client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(p.identityID),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("auth: retrieving credentials for identity: %w", err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("auth: cognito returned no credentials")
	}

	return aws.Credentials{
		AccessKeyID:     *out.Credentials.AccessKeyId,
		SecretAccessKey: *out.Credentials.SecretKey,
		SessionToken:    *out.Credentials.SessionToken,
		Source:          "CognitoIdentity",
		CanExpire:       true,
		Expires:         *out.Credentials.Expiration,
	}, nil
}
