package storage

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/config"
	"gaze-engine/pkg/errors"
	"gaze-engine/pkg/gaze"
	"gaze-engine/pkg/metrics"
)

const dynamoBackend = "dynamodb"

// sessionAnalysesIndex is the GSI on the analyses table keyed by sessionId.
// Part of the table definition, not configuration.
const sessionAnalysesIndex = "session-index"

// DynamoStore persists sessions and analyses in DynamoDB. Sessions live in
// one table keyed by sessionId with a participant GSI; analyses live in a
// second table keyed by analysisId with a session GSI reusing the same
// index name.
type DynamoStore struct {
	logger           *logrus.Logger
	client           *dynamodb.Client
	sessionsTable    string
	analysesTable    string
	participantIndex string
	requestTimeout   time.Duration
}

// sessionRecord is the DynamoDB shape of a session. The live Session type
// carries a mutex and unexported bookkeeping that must not reach the wire,
// so records are rebuilt field by field.
type sessionRecord struct {
	SessionID       string                `dynamodbav:"sessionId"`
	ParticipantID   string                `dynamodbav:"participantId"`
	TestID          string                `dynamodbav:"testId,omitempty"`
	CaptureType     string                `dynamodbav:"captureType"`
	StartTime       time.Time             `dynamodbav:"startTime"`
	EndTime         *time.Time            `dynamodbav:"endTime,omitempty"`
	Status          string                `dynamodbav:"status"`
	Config          gaze.EyeTrackerConfig `dynamodbav:"config"`
	Calibration     *gaze.CalibrationData `dynamodbav:"calibration,omitempty"`
	AreasOfInterest []gaze.AreaOfInterest `dynamodbav:"areasOfInterest,omitempty"`
	Samples         []gaze.GazeSample     `dynamodbav:"samples"`
	Metadata        gaze.SessionMetadata  `dynamodbav:"metadata"`
}

func toSessionRecord(session *gaze.Session) sessionRecord {
	return sessionRecord{
		SessionID:       session.SessionID,
		ParticipantID:   session.ParticipantID,
		TestID:          session.TestID,
		CaptureType:     string(session.CaptureType),
		StartTime:       session.StartTime,
		EndTime:         session.EndTime,
		Status:          string(session.Status),
		Config:          session.Config,
		Calibration:     session.Calibration,
		AreasOfInterest: session.AreasOfInterest,
		Samples:         session.Samples,
		Metadata:        session.Metadata,
	}
}

func (r *sessionRecord) toSession() *gaze.Session {
	return &gaze.Session{
		SessionID:       r.SessionID,
		ParticipantID:   r.ParticipantID,
		TestID:          r.TestID,
		CaptureType:     gaze.CaptureType(r.CaptureType),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		Status:          gaze.SessionStatus(r.Status),
		Config:          r.Config,
		Calibration:     r.Calibration,
		AreasOfInterest: r.AreasOfInterest,
		Samples:         r.Samples,
		Metadata:        r.Metadata,
	}
}

// NewDynamoStore creates a store from the storage configuration. An endpoint
// override points the client at a local DynamoDB.
func NewDynamoStore(ctx context.Context, logger *logrus.Logger, cfg config.StorageConfig) (*DynamoStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	logger.WithFields(logrus.Fields{
		"region":         cfg.Region,
		"sessions_table": cfg.SessionsTable,
		"analyses_table": cfg.AnalysesTable,
	}).Info("DynamoDB store initialized")

	return &DynamoStore{
		logger:           logger,
		client:           client,
		sessionsTable:    cfg.SessionsTable,
		analysesTable:    cfg.AnalysesTable,
		participantIndex: cfg.ParticipantIndex,
		requestTimeout:   timeout,
	}, nil
}

// PutSession stores or replaces a session record
func (d *DynamoStore) PutSession(ctx context.Context, session *gaze.Session) error {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "put_session")

	record := toSessionRecord(session)
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session "+session.SessionID)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.sessionsTable),
		Item:      item,
	})
	d.observe("put_session", start, err)
	if err != nil {
		return errors.NewPersistenceFailure("put_session", err)
	}

	return nil
}

// GetSession retrieves a session record by id
func (d *DynamoStore) GetSession(ctx context.Context, sessionID string) (*gaze.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "get_session")

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.sessionsTable),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		},
	})
	d.observe("get_session", start, err)
	if err != nil {
		return nil, errors.NewPersistenceFailure("get_session", err)
	}
	if out.Item == nil {
		return nil, errors.NewSessionNotFound(sessionID)
	}

	var record sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session "+sessionID)
	}

	return record.toSession(), nil
}

// QuerySessionsByParticipant queries the participant GSI, newest first
func (d *DynamoStore) QuerySessionsByParticipant(ctx context.Context, participantID string) ([]*gaze.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "query_participant")

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.sessionsTable),
		IndexName:              aws.String(d.participantIndex),
		KeyConditionExpression: aws.String("participantId = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: participantID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	d.observe("query_participant", start, err)
	if err != nil {
		return nil, errors.NewPersistenceFailure("query_participant", err)
	}

	sessions := make([]*gaze.Session, 0, len(out.Items))
	for _, item := range out.Items {
		var record sessionRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal session for participant "+participantID)
		}
		sessions = append(sessions, record.toSession())
	}

	return sessions, nil
}

// PutAnalysis stores an analysis record. The conditional write enforces
// immutability: an existing analysisId is never overwritten.
func (d *DynamoStore) PutAnalysis(ctx context.Context, record *analysis.Analysis) error {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "put_analysis")

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal analysis "+record.AnalysisID)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.analysesTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(analysisId)"),
	})
	d.observe("put_analysis", start, err)
	if err != nil {
		return errors.NewPersistenceFailure("put_analysis", err)
	}

	return nil
}

// GetAnalysis retrieves an analysis record by id
func (d *DynamoStore) GetAnalysis(ctx context.Context, analysisID string) (*analysis.Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "get_analysis")

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.analysesTable),
		Key: map[string]types.AttributeValue{
			"analysisId": &types.AttributeValueMemberS{Value: analysisID},
		},
	})
	d.observe("get_analysis", start, err)
	if err != nil {
		return nil, errors.NewPersistenceFailure("get_analysis", err)
	}
	if out.Item == nil {
		return nil, errors.Wrap(errors.ErrAnalysisNotFound, "analysis "+analysisID+" not found")
	}

	var record analysis.Analysis
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal analysis "+analysisID)
	}

	return &record, nil
}

// GetAnalysesBySession queries the session GSI on the analyses table,
// newest first
func (d *DynamoStore) GetAnalysesBySession(ctx context.Context, sessionID string) ([]*analysis.Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	start := time.Now()
	metrics.RecordStoreRequest(dynamoBackend, "query_session_analyses")

	out, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.analysesTable),
		IndexName:              aws.String(sessionAnalysesIndex),
		KeyConditionExpression: aws.String("sessionId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		ScanIndexForward: aws.Bool(false),
	})
	d.observe("query_session_analyses", start, err)
	if err != nil {
		return nil, errors.NewPersistenceFailure("query_session_analyses", err)
	}

	analyses := make([]*analysis.Analysis, 0, len(out.Items))
	for _, item := range out.Items {
		var record analysis.Analysis
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal analysis for session "+sessionID)
		}
		analyses = append(analyses, &record)
	}

	return analyses, nil
}

// observe records latency and the error counter for one store operation
func (d *DynamoStore) observe(op string, start time.Time, err error) {
	if metrics.StoreLatency != nil {
		metrics.StoreLatency.WithLabelValues(dynamoBackend, op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		metrics.RecordStoreError(dynamoBackend, op)
	}
}
