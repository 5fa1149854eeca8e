package cfg

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

// SSMAPI is the slice of the SSM client ResolveSecrets needs.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// secretParams maps SSM parameter names under SSMSecretPrefix to the fields they fill.
func (c *App) secretParams() map[string]*string {
	return map[string]*string{
		"database-url":          &c.DatabaseURL,
		"redis-password":        &c.RedisPassword,
		"jwt-secret":            &c.JWTSecret,
		"stripe-secret-key":     &c.StripeSecretKey,
		"stripe-webhook-secret": &c.StripeWebhookSecret,
		"vimeo-token":           &c.VimeoToken,
	}
}

// ResolveSecrets fills every empty secret from SSM SecureString parameters
// at <SSMSecretPrefix>/<name>. Values already set by flag or env are kept.
// A missing parameter is skipped; Validate decides whether it was required.
// It returns the names it filled.
func ResolveSecrets(ctx context.Context, c *App, client SSMAPI) ([]string, error) {
	prefix := strings.TrimRight(c.SSMSecretPrefix, "/")
	if prefix == "" {
		return nil, nil
	}

	var filled []string
	for name, dst := range c.secretParams() {
		if *dst != "" {
			continue
		}
		param := prefix + "/" + name
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(param),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			var nf *types.ParameterNotFound
			if errors.As(err, &nf) {
				continue
			}
			return filled, xerrors.Wrapf(err, "get SSM parameter %s", param)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			continue
		}
		if v := strings.TrimSpace(*out.Parameter.Value); v != "" {
			*dst = v
			filled = append(filled, name)
		}
	}
	return filled, nil
}
