package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gpuindex/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is the subset of the EC2 client used by EC2Source
type EC2API interface {
	DescribeInstanceTypes(ctx context.Context, params *ec2.DescribeInstanceTypesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypesOutput, error)
	DescribeSpotPriceHistory(ctx context.Context, params *ec2.DescribeSpotPriceHistoryInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSpotPriceHistoryOutput, error)
}

// EC2Options configures an EC2Source
type EC2Options struct {
	Provider       string
	Region         string
	OnDemandPrices map[string]float64 // instance type -> USD/hour, defines the catalog
	GPUAliases     map[string]string  // EC2 GPU name (lowercase) -> gpu slug
}

// EC2Source lists GPU instance types of one AWS region. On-demand prices come
// from configuration since the pricing API is global and slow; spot prices are
// the lowest current price across availability zones.
type EC2Source struct {
	client EC2API
	opts   EC2Options
}

// NewEC2Source creates an EC2 source on an existing client
func NewEC2Source(client EC2API, opts EC2Options) *EC2Source {
	aliases := make(map[string]string, len(opts.GPUAliases))
	for k, v := range opts.GPUAliases {
		aliases[strings.ToLower(strings.TrimSpace(k))] = v
	}
	opts.GPUAliases = aliases
	return &EC2Source{client: client, opts: opts}
}

// NewEC2Client builds an EC2 client from static keys or the default chain
func NewEC2Client(ctx context.Context, region, accessKeyID, secretAccessKey string) (*ec2.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return ec2.NewFromConfig(cfg), nil
}

// Slug returns the provider slug
func (s *EC2Source) Slug() string {
	return s.opts.Provider
}

// Fetch describes the configured instance types and attaches spot prices
func (s *EC2Source) Fetch(ctx context.Context) (*Batch, error) {
	instanceTypes := make([]types.InstanceType, 0, len(s.opts.OnDemandPrices))
	for it := range s.opts.OnDemandPrices {
		instanceTypes = append(instanceTypes, types.InstanceType(it))
	}
	if len(instanceTypes) == 0 {
		return &Batch{}, nil
	}
	sort.Slice(instanceTypes, func(i, j int) bool { return instanceTypes[i] < instanceTypes[j] })

	infos, err := s.describeInstanceTypes(ctx, instanceTypes)
	if err != nil {
		return nil, classifyAWSError(err)
	}

	spot, err := s.spotPrices(ctx, instanceTypes)
	if err != nil {
		if classified := classifyAWSError(err); errors.Is(classified, ErrRateLimited) {
			return nil, classified
		}
		// spot is optional, on-demand offers are still valid
		logger.WarnCtx(ctx, "failed to get spot prices in %s: %v", s.opts.Region, err)
		spot = nil
	}

	batch := &Batch{}
	for _, info := range infos {
		it := string(info.InstanceType)
		if info.GpuInfo == nil || len(info.GpuInfo.Gpus) == 0 {
			batch.Invalid = append(batch.Invalid, InvalidOffer{Reason: fmt.Sprintf("%s has no GPU", it)})
			continue
		}

		gpu := info.GpuInfo.Gpus[0]
		count := 0
		for _, g := range info.GpuInfo.Gpus {
			count += int(aws.ToInt32(g.Count))
		}

		offer := RawOffer{
			Provider:                s.opts.Provider,
			GPU:                     s.gpuSlug(aws.ToString(gpu.Name)),
			InstanceType:            it,
			GPUCount:                count,
			Price:                   s.opts.OnDemandPrices[it],
			BillingIncrementSeconds: 1,
			Regions:                 []string{s.opts.Region},
			Availability:            "available",
		}
		if p, ok := spot[it]; ok {
			offer.SpotPrice = aws.Float64(p)
		}
		batch.Offers = append(batch.Offers, offer)
	}

	return batch, nil
}

func (s *EC2Source) describeInstanceTypes(ctx context.Context, instanceTypes []types.InstanceType) ([]types.InstanceTypeInfo, error) {
	var infos []types.InstanceTypeInfo
	input := &ec2.DescribeInstanceTypesInput{InstanceTypes: instanceTypes}
	for {
		out, err := s.client.DescribeInstanceTypes(ctx, input)
		if err != nil {
			return nil, err
		}
		infos = append(infos, out.InstanceTypes...)
		if out.NextToken == nil || *out.NextToken == "" {
			return infos, nil
		}
		input.NextToken = out.NextToken
	}
}

func (s *EC2Source) spotPrices(ctx context.Context, instanceTypes []types.InstanceType) (map[string]float64, error) {
	out, err := s.client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       instanceTypes,
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           aws.Time(time.Now().Add(-1 * time.Hour)),
	})
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64)
	for _, sp := range out.SpotPriceHistory {
		if sp.SpotPrice == nil {
			continue
		}
		p, err := strconv.ParseFloat(*sp.SpotPrice, 64)
		if err != nil {
			continue
		}
		it := string(sp.InstanceType)
		if cur, ok := prices[it]; !ok || p < cur {
			prices[it] = p
		}
	}
	return prices, nil
}

func (s *EC2Source) gpuSlug(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if slug, ok := s.opts.GPUAliases[key]; ok {
		return slug
	}
	return key
}

// classifyAWSError maps throttling API errors onto ErrRateLimited
func classifyAWSError(err error) error {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "RequestLimitExceeded", "Throttling", "ThrottlingException":
			return fmt.Errorf("%w: %v", &RateLimitError{}, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
