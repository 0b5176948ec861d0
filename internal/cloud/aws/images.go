package aws

import (
	"context"
	"slices"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ImageFilter selects the base-image family offered for new instances
type ImageFilter struct {
	Owner       string
	NamePattern string
}

// DefaultImageFilter matches current Amazon Linux 2023 x86_64 images.
func DefaultImageFilter() ImageFilter {
	return ImageFilter{Owner: "amazon", NamePattern: "al2023-ami-2023.*-x86_64"}
}

// Image is a candidate boot image
type Image struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// ListImages returns the available images of the configured family in
// region, newest first.
func (a *Adapter) ListImages(ctx context.Context, region string) ([]Image, error) {
	input := &ec2.DescribeImagesInput{
		Filters: []types.Filter{
			{Name: awsv2.String("name"), Values: []string{a.images.NamePattern}},
			{Name: awsv2.String("state"), Values: []string{"available"}},
		},
	}
	if a.images.Owner != "" {
		input.Owners = []string{a.images.Owner}
	}

	out, err := a.newClient(region).DescribeImages(ctx, input)
	a.observe("DescribeImages", err)
	if err != nil {
		return nil, classify("list images", region, err)
	}

	images := make([]Image, 0, len(out.Images))
	for _, img := range out.Images {
		images = append(images, Image{
			ID:          awsv2.ToString(img.ImageId),
			Name:        awsv2.ToString(img.Name),
			Description: awsv2.ToString(img.Description),
			CreatedAt:   parseCreationDate(awsv2.ToString(img.CreationDate)),
		})
	}
	SortNewestFirst(images)
	return images, nil
}

// SortNewestFirst orders images by creation time, latest first. Images
// with an unparsable date sort last.
func SortNewestFirst(images []Image) {
	slices.SortStableFunc(images, func(x, y Image) int {
		return y.CreatedAt.Compare(x.CreatedAt)
	})
}

func parseCreationDate(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
