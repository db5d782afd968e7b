package awssm

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

// metadataStore maps the MetadataStore contract onto SSM Parameter Store.
// Parameter Store versions parameters natively, which gives Get and Put their
// version numbers for free. It has no conditional write, so CompareAndSwap is
// read-then-write; concurrent writers can race between the read and the
// overwrite.
type metadataStore struct {
	client SSMAPI
}

func (m *metadataStore) GetEntry(ctx *provider.Context, key string) (provider.Entry, error) {
	out, err := m.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(key),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return provider.Entry{}, mapError(err, "aws", "metadata.get", key)
	}
	return entryFrom(key, out.Parameter), nil
}

func entryFrom(key string, p *ssmtypes.Parameter) provider.Entry {
	entry := provider.Entry{Key: key}
	if p == nil {
		return entry
	}
	if p.Value != nil {
		entry.Value = []byte(*p.Value)
	}
	entry.Version = p.Version
	if p.LastModifiedDate != nil {
		entry.UpdatedAt = *p.LastModifiedDate
	}
	return entry
}

func (m *metadataStore) PutEntry(ctx *provider.Context, req provider.PutEntryRequest) (provider.Entry, error) {
	out, err := m.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(req.Key),
		Value:     aws.String(string(req.Value)),
		Type:      ssmtypes.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return provider.Entry{}, mapError(err, "aws", "metadata.put", req.Key)
	}
	return provider.Entry{
		Key:     req.Key,
		Value:   req.Value,
		Version: out.Version,
	}, nil
}

func (m *metadataStore) CompareAndSwap(ctx *provider.Context, req provider.CASRequest) (provider.CASResult, error) {
	current, err := m.GetEntry(ctx, req.Key)
	switch {
	case provider.CodeOf(err) == provider.CodeNotFound:
		current = provider.Entry{Key: req.Key}
	case err != nil:
		return provider.CASResult{}, err
	}

	if current.Version != req.ExpectedVersion {
		return provider.CASResult{Swapped: false, CurrentVersion: current.Version}, nil
	}

	input := &ssm.PutParameterInput{
		Name:  aws.String(req.Key),
		Value: aws.String(string(req.Value)),
		Type:  ssmtypes.ParameterTypeString,
	}
	// A zero expected version means create-only; letting the SDK reject an
	// existing parameter narrows the race window for that case.
	input.Overwrite = aws.Bool(req.ExpectedVersion != 0)

	out, err := m.client.PutParameter(ctx, input)
	if err != nil {
		if provider.CodeOf(mapError(err, "aws", "metadata.cas", req.Key)) == provider.CodeAlreadyExists {
			refreshed, gerr := m.GetEntry(ctx, req.Key)
			if gerr != nil {
				return provider.CASResult{}, gerr
			}
			return provider.CASResult{Swapped: false, CurrentVersion: refreshed.Version}, nil
		}
		return provider.CASResult{}, mapError(err, "aws", "metadata.cas", req.Key)
	}
	return provider.CASResult{Swapped: true, CurrentVersion: out.Version}, nil
}

func (m *metadataStore) DeleteEntry(ctx *provider.Context, req provider.DeleteEntryRequest) error {
	_, err := m.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(req.Key)})
	if err != nil {
		return mapError(err, "aws", "metadata.delete", req.Key)
	}
	return nil
}

func (m *metadataStore) ListEntries(ctx *provider.Context, req provider.ListEntriesRequest) (provider.EntryList, error) {
	input := &ssm.DescribeParametersInput{}
	if req.MaxResults > 0 {
		input.MaxResults = aws.Int32(int32(req.MaxResults))
	}
	if req.NextToken != "" {
		input.NextToken = aws.String(req.NextToken)
	}
	if req.Prefix != "" {
		input.ParameterFilters = []ssmtypes.ParameterStringFilter{{
			Key:    aws.String("Name"),
			Option: aws.String("BeginsWith"),
			Values: []string{req.Prefix},
		}}
	}

	out, err := m.client.DescribeParameters(ctx, input)
	if err != nil {
		return provider.EntryList{}, mapError(err, "aws", "metadata.list", req.Prefix)
	}

	list := provider.EntryList{}
	for _, p := range out.Parameters {
		if p.Name != nil {
			list.Keys = append(list.Keys, *p.Name)
		}
	}
	if out.NextToken != nil {
		list.NextToken = *out.NextToken
	}
	return list, nil
}
