package awssm

import (
	"errors"
	"strings"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// mapError folds SDK errors into the shared taxonomy. Typed exceptions are
// matched first; auth failures fall back to string matching because the SDK
// reports them through generic API errors.
func mapError(err error, providerName, op, resource string) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if resource != "" {
		msg = resource + ": " + err.Error()
	}

	switch {
	case isNotFound(err):
		return provider.NewError(provider.CodeNotFound, providerName, op, msg, err)
	case isAlreadyExists(err):
		return provider.NewError(provider.CodeAlreadyExists, providerName, op, msg, err)
	case isIntegrity(err):
		return provider.NewError(provider.CodeDataIntegrity, providerName, op, msg, err)
	case isThrottled(err):
		return provider.NewError(provider.CodeThrottled, providerName, op, msg, err)
	case isAuth(err):
		return provider.NewError(provider.CodeAuthFailure, providerName, op, msg, err)
	}
	return provider.NewError(provider.CodeTransientNetwork, providerName, op, msg, err)
}

func isNotFound(err error) bool {
	var smNotFound *smtypes.ResourceNotFoundException
	var ssmNotFound *ssmtypes.ParameterNotFound
	var kmsNotFound *kmstypes.NotFoundException
	return errors.As(err, &smNotFound) || errors.As(err, &ssmNotFound) || errors.As(err, &kmsNotFound)
}

func isAlreadyExists(err error) bool {
	var exists *smtypes.ResourceExistsException
	var paramExists *ssmtypes.ParameterAlreadyExists
	return errors.As(err, &exists) || errors.As(err, &paramExists)
}

func isIntegrity(err error) bool {
	var invalidCiphertext *kmstypes.InvalidCiphertextException
	return errors.As(err, &invalidCiphertext)
}

func isThrottled(err error) bool {
	var limit *smtypes.LimitExceededException
	var tooMany *ssmtypes.TooManyUpdates
	if errors.As(err, &limit) || errors.As(err, &tooMany) {
		return true
	}
	return strings.Contains(err.Error(), "Throttling") || strings.Contains(err.Error(), "TooManyRequests")
}

func isAuth(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "AccessDenied") ||
		strings.Contains(msg, "UnrecognizedClient") ||
		strings.Contains(msg, "InvalidSignature") ||
		strings.Contains(msg, "ExpiredToken") ||
		strings.Contains(msg, "Forbidden")
}
