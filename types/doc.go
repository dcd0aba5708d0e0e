// Copyright (c) CertFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the certflow core.

# Overview

types is the lowest-level public package. It depends on no internal
package and supplies the error taxonomy and message priority levels that
the agent, bus and workflow packages build on, so that no import cycles
form between them.

# Core types

  - Error / ErrorCode — structured error model with Retryable and Cause
  - Priority          — message priority levels (urgent > high > normal > low)

# Capabilities

  - Error tool chain: WrapError / AsError / IsErrorCode / IsRetryable / GetErrorCode
  - Common constructors: NewNoCapableAgentError / NewWorkflowNotFoundError /
    NewWorkflowTimeoutError / NewValidationError / NewDeliveryError
  - Priority ordering: Rank + ParsePriority for deterministic delivery order
*/
package types
