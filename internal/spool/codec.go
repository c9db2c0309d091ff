package spool

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Job files are textual "Key: value" records, one field per line. Lines
// starting with '#' or ';' are comments. The History key repeats, one line
// per note. Unknown keys are preserved verbatim so that older engines can
// safely rewrite files written by newer producers.

// Field names in the serialized form.
const (
	keyChannel       = "Channel"
	keyApplication   = "Application"
	keyData          = "Data"
	keyCreatedAt     = "CreatedAt"
	keyNotBefore     = "NotBefore"
	keyAttempts      = "Attempts"
	keyMaxRetries    = "MaxRetries"
	keyRetryInterval = "RetryInterval"
	keyOnSuccess     = "OnSuccess"
	keyHistory       = "History"
)

// DecodeError reports a malformed job file. Jobs that fail to decode are
// quarantined to the failed bin, never retried.
type DecodeError struct {
	Line int // 1-based line number, 0 when not tied to a line
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("decode job file: line %d: %s", e.Line, e.Msg)
	}
	return "decode job file: " + e.Msg
}

// Decode parses a job file. The returned job has no ID; the caller assigns
// it from the filename. Missing required fields (Channel, CreatedAt) and
// unparsable timestamps, durations or counters yield a *DecodeError.
func Decode(data []byte) (*Job, error) {
	job := &Job{OnSuccess: SuccessArchive}

	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &DecodeError{Line: i + 1, Msg: "missing ':' separator"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case keyChannel:
			job.Channel = value
		case keyApplication:
			job.Application = value
		case keyData:
			job.Data = value
		case keyCreatedAt:
			job.CreatedAt, err = time.Parse(time.RFC3339Nano, value)
		case keyNotBefore:
			job.NotBefore, err = time.Parse(time.RFC3339Nano, value)
		case keyAttempts:
			job.Attempts, err = strconv.Atoi(value)
		case keyMaxRetries:
			job.MaxRetries, err = strconv.Atoi(value)
		case keyRetryInterval:
			job.RetryInterval, err = time.ParseDuration(value)
		case keyOnSuccess:
			switch SuccessPolicy(value) {
			case SuccessArchive, SuccessRequeue:
				job.OnSuccess = SuccessPolicy(value)
			default:
				err = fmt.Errorf("unknown policy %q", value)
			}
		case keyHistory:
			job.History = append(job.History, value)
		default:
			if job.Extra == nil {
				job.Extra = make(map[string]string)
			}
			job.Extra[key] = value
		}
		if err != nil {
			return nil, &DecodeError{Line: i + 1, Msg: fmt.Sprintf("field %s: %v", key, err)}
		}
	}

	if job.Channel == "" {
		return nil, &DecodeError{Msg: "missing required field Channel"}
	}
	if job.CreatedAt.IsZero() {
		return nil, &DecodeError{Msg: "missing required field CreatedAt"}
	}
	return job, nil
}

// Encode serializes a job deterministically: known fields in fixed order,
// preserved unknown fields in sorted order, history lines last. Re-encoding
// a decoded job without modification produces byte-identical output, which
// keeps atomic rewrites safe.
func Encode(job *Job) []byte {
	var buf bytes.Buffer

	writeField := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteByte('\n')
	}

	writeField(keyChannel, job.Channel)
	if job.Application != "" {
		writeField(keyApplication, job.Application)
	}
	if job.Data != "" {
		writeField(keyData, job.Data)
	}
	writeField(keyCreatedAt, job.CreatedAt.UTC().Format(time.RFC3339Nano))
	if !job.NotBefore.IsZero() {
		writeField(keyNotBefore, job.NotBefore.UTC().Format(time.RFC3339Nano))
	}
	writeField(keyAttempts, strconv.Itoa(job.Attempts))
	writeField(keyMaxRetries, strconv.Itoa(job.MaxRetries))
	writeField(keyRetryInterval, job.RetryInterval.String())
	policy := job.OnSuccess
	if policy == "" {
		policy = SuccessArchive
	}
	writeField(keyOnSuccess, string(policy))

	extras := make([]string, 0, len(job.Extra))
	for k := range job.Extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		writeField(k, job.Extra[k])
	}

	for _, note := range job.History {
		writeField(keyHistory, note)
	}

	return buf.Bytes()
}
