// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otlpstdout carries OpenTelemetry export requests over standard
// output and relays them to real collectors.
//
// An application exports spans with the [github.com/z5labs/otlpstdout/exporter]
// package, which writes every OTLP/HTTP request as a single JSON line, an
// envelope, instead of sending it over the network. The forwarder command
// reads those lines back from CloudWatch Logs, Kinesis or SQS, decodes them
// with the [github.com/z5labs/otlpstdout/envelope] package and posts the
// payloads to every collector configured in AWS Secrets Manager.
//
// This package holds the small framework both commands are assembled with:
//
//   - Builder[T]: constructs a component, e.g. a collector store or the tracer provider
//   - Runtime: a runnable component, e.g. the Lambda handler loop
//   - Runner[T]: builds a Runtime and runs it
//
// Builders compose with [Map] and [Bind], and [MemoizeBuilder] shares one
// component between several dependents:
//
//	awsCfg := otlpstdout.MemoizeBuilder(otlpstdout.BuilderFunc[aws.Config](loadAWSConfig))
//	store := otlpstdout.Map(awsCfg, func(cfg aws.Config) (collector.Store, error) {
//	    return collector.NewSecretsManagerStore(secretsmanager.NewFromConfig(cfg), prefix), nil
//	})
//
// Run the result with signal handling and panic recovery:
//
//	runner := otlpstdout.RecoverPanics(
//	    otlpstdout.NotifyOnSignal(
//	        otlpstdout.DefaultRunner[otlpstdout.Runtime](),
//	        os.Interrupt,
//	    ),
//	)
//	if err := runner.Run(context.Background(), runtime); err != nil {
//	    log.Fatal(err)
//	}
package otlpstdout
