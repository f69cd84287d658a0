package customresource

import (
	"fmt"

	"github.com/Adp74/cloudformation-lambda-backed-custom-resource/functioncode"
	"github.com/mitchellh/mapstructure"
)

// Properties are the ResourceProperties of a Custom::LambdaCode resource.
// CloudFormation also sends ServiceToken, which is ignored.
type Properties struct {
	FunctionName    string `mapstructure:"FunctionName"`
	S3Bucket        string `mapstructure:"S3Bucket"`
	S3Key           string `mapstructure:"S3Key"`
	S3ObjectVersion string `mapstructure:"S3ObjectVersion"`
}

// DecodeProperties reads Properties from the raw event map. Scalars are
// converted to strings; missing keys stay empty and are left for the
// Lambda API to reject.
func DecodeProperties(raw map[string]interface{}) (Properties, error) {
	var p Properties
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Properties{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Properties{}, fmt.Errorf("decode resource properties: %w", err)
	}
	return p, nil
}

func (p Properties) updateRequest() functioncode.Request {
	return functioncode.Request{
		FunctionName:    p.FunctionName,
		S3Bucket:        p.S3Bucket,
		S3Key:           p.S3Key,
		S3ObjectVersion: p.S3ObjectVersion,
	}
}
