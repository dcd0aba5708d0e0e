// Copyright 2025 CertFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent defines the worker contract the orchestration core depends on.

# Overview

An Agent declares an identity, a version, and the capabilities it can
perform, and exposes a single Process call that receives a step input and
returns an output. Everything an agent does inside Process is business
logic the core is agnostic to: the demo certification workers classify
ingredients, extract document text and render certificates, but the
registry and the workflow engine only ever see the contract below.

	type Agent interface {
	    ID() string
	    Name() string
	    Version() string
	    Capabilities() []string
	    Process(ctx context.Context, input any) (any, error)
	}

Process must honor ctx cancellation. Cancellation is cooperative: an
ill-behaved agent may still return after its execution was cancelled, in
which case the engine discards the late result.

# Optional interfaces

Optional behaviour is discovered by type assertion, never required:

  - HealthReporter  — probed by registry health checks; an agent without
    it is treated as healthy
  - Shutdowner      — invoked asynchronously when the agent is unregistered
  - MetricsReporter — surfaces a processing metrics snapshot

# Declaring agents

FuncAgent turns a plain function into a fully instrumented Agent:

	a := agent.NewFuncAgent("ingredient-analyzer",
	    []string{"ingredient-analysis"},
	    func(ctx context.Context, input any) (any, error) {
	        return classify(input)
	    },
	    agent.WithVersion("1.2.0"),
	)
*/
package agent
