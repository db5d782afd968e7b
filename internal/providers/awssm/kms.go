package awssm

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// kmsService maps the KMS contract onto AWS KMS. The encryption context is
// passed straight through; AWS binds it into the ciphertext and rejects
// mismatched contexts on decrypt.
type kmsService struct {
	client       KMSAPI
	defaultKeyID string
}

func (k *kmsService) keyID(requested string) string {
	if requested != "" {
		return requested
	}
	return k.defaultKeyID
}

func (k *kmsService) Encrypt(ctx *provider.Context, req provider.KMSEncryptRequest) (provider.KMSEncryptResult, error) {
	keyID := k.keyID(req.KeyID)
	out, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(keyID),
		Plaintext:         req.Plaintext,
		EncryptionContext: req.EncryptionContext,
	})
	if err != nil {
		return provider.KMSEncryptResult{}, mapError(err, "aws", "kms.encrypt", keyID)
	}

	res := provider.KMSEncryptResult{Ciphertext: out.CiphertextBlob}
	if out.KeyId != nil {
		res.KeyID = *out.KeyId
	}
	return res, nil
}

func (k *kmsService) Decrypt(ctx *provider.Context, req provider.KMSDecryptRequest) (provider.KMSDecryptResult, error) {
	input := &kms.DecryptInput{
		CiphertextBlob:    req.Ciphertext,
		EncryptionContext: req.EncryptionContext,
	}
	if keyID := k.keyID(req.KeyID); keyID != "" {
		input.KeyId = aws.String(keyID)
	}

	out, err := k.client.Decrypt(ctx, input)
	if err != nil {
		return provider.KMSDecryptResult{}, mapError(err, "aws", "kms.decrypt", req.KeyID)
	}

	res := provider.KMSDecryptResult{Plaintext: out.Plaintext}
	if out.KeyId != nil {
		res.KeyID = *out.KeyId
	}
	return res, nil
}

func (k *kmsService) GenerateDataKey(ctx *provider.Context, req provider.GenerateDataKeyRequest) (provider.DataKey, error) {
	keyID := k.keyID(req.KeyID)
	bytes := req.Bytes
	if bytes == 0 {
		bytes = 32
	}

	out, err := k.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:         aws.String(keyID),
		NumberOfBytes: aws.Int32(int32(bytes)),
	})
	if err != nil {
		return provider.DataKey{}, mapError(err, "aws", "kms.generateDataKey", keyID)
	}

	key := provider.DataKey{
		Plaintext:  out.Plaintext,
		Ciphertext: out.CiphertextBlob,
	}
	if out.KeyId != nil {
		key.KeyID = *out.KeyId
	}
	return key, nil
}

func (k *kmsService) DescribeKey(ctx *provider.Context, keyID string) (provider.KeyInfo, error) {
	resolved := k.keyID(keyID)
	out, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(resolved)})
	if err != nil {
		return provider.KeyInfo{}, mapError(err, "aws", "kms.describeKey", resolved)
	}

	info := provider.KeyInfo{}
	if meta := out.KeyMetadata; meta != nil {
		if meta.KeyId != nil {
			info.KeyID = *meta.KeyId
		}
		if meta.CreationDate != nil {
			info.CreatedAt = *meta.CreationDate
		}
		info.Algorithm = string(meta.KeySpec)
		info.Enabled = meta.Enabled
	}
	return info, nil
}
