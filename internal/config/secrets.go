package config

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretProvider resolves the values behind *_SSM_PARAM pointers.
// Implementations return only the keys they found; the loader reports the
// rest.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// ssmMaxBatchSize is the GetParameters limit.
const ssmMaxBatchSize = 10

type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider reads SecureString parameters from Parameter Store in the
// Lambda's own region. The client is built on first use so local runs that
// never resolve a parameter never load AWS credentials.
type SSMProvider struct {
	region string

	once    sync.Once
	client  ssmClient
	initErr error
}

// NewSSMProvider returns a provider for region.
func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(client ssmClient) *SSMProvider {
	p := &SSMProvider{client: client}
	p.once.Do(func() {})
	return p
}

func (p *SSMProvider) getClient(ctx context.Context) (ssmClient, error) {
	p.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			p.initErr = fmt.Errorf("load AWS config for SSM in %s: %w", p.region, err)
			return
		}
		p.client = ssm.NewFromConfig(cfg)
	})
	return p.client, p.initErr
}

// GetParametersBatch decrypts keys in chunks of ten. Duplicate keys are
// requested once. Parameters SSM reports as invalid are collected across
// all chunks and returned in a single error.
func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	names := slices.Compact(slices.Sorted(slices.Values(keys)))
	result := make(map[string]string, len(names))
	if len(names) == 0 {
		return result, nil
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	var invalid []string
	for chunk := range slices.Chunk(names, ssmMaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ssm: resolved %d of %d parameters: %w", len(result), len(names), err)
		}
		out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          chunk,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm: get parameters %s..%s: %w", chunk[0], chunk[len(chunk)-1], err)
		}
		for _, param := range out.Parameters {
			if param.Name != nil && param.Value != nil {
				result[*param.Name] = *param.Value
			}
		}
		invalid = append(invalid, out.InvalidParameters...)
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("ssm: parameters not found: %s", strings.Join(invalid, ", "))
	}
	return result, nil
}
