package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps tests, questions, submissions and users in separate
// collections of one database. Sequence counters live in "counters".
type MongoStore struct {
	tests       *mongo.Collection
	questions   *mongo.Collection
	submissions *mongo.Collection
	users       *mongo.Collection
	counters    *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		tests:       db.Collection("tests"),
		questions:   db.Collection("questions"),
		submissions: db.Collection("submissions"),
		users:       db.Collection("users"),
		counters:    db.Collection("counters"),
	}
}

// EnsureIndexes creates the unique indexes the store relies on. The
// (test_id, student_id) index is what makes InsertSubmission atomic.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.submissions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "test_id", Value: 1}, {Key: "student_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("submissions index: %w", err)
	}
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.questions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "test_id", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		return fmt.Errorf("questions index: %w", err)
	}
	return nil
}

type testDoc struct {
	ID                 string    `bson:"_id"`
	Seq                int64     `bson:"seq"`
	Title              string    `bson:"title"`
	Type               string    `bson:"type"`
	Audience           string    `bson:"assigned_to"`
	OwnerID            string    `bson:"created_by"`
	DurationMinutes    *int      `bson:"duration_minutes,omitempty"`
	SecondsPerQuestion *int      `bson:"time_per_question,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
}

func (d testDoc) toTest() Test {
	return Test{
		ID: d.ID, Seq: d.Seq, Title: d.Title, Type: d.Type, Audience: d.Audience, OwnerID: d.OwnerID,
		DurationMinutes: d.DurationMinutes, SecondsPerQuestion: d.SecondsPerQuestion,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

type questionDoc struct {
	ID        string `bson:"_id"`
	TestID    string `bson:"test_id"`
	Seq       int64  `bson:"seq"`
	Text      string `bson:"qtext"`
	Marks     any    `bson:"marks"`
	KeyFields `bson:",inline"`
}

type submissionDoc struct {
	ID          string              `bson:"_id"`
	TestID      string              `bson:"test_id"`
	StudentID   string              `bson:"student_id"`
	Answers     map[string][]string `bson:"answers"`
	Score       float64             `bson:"score"`
	Possible    float64             `bson:"possible"`
	SubmittedAt time.Time           `bson:"submitted_at"`
}

func (d submissionDoc) toSubmission() Submission {
	ans := d.Answers
	if ans == nil {
		ans = map[string][]string{}
	}
	return Submission{
		ID: d.ID, TestID: d.TestID, StudentID: d.StudentID, Answers: ans,
		Score: d.Score, Possible: d.Possible, SubmittedAt: d.SubmittedAt.UTC(),
	}
}

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (d userDoc) toUser() User {
	return User{ID: d.ID, Username: d.Username, PasswordHash: d.PasswordHash, Role: d.Role, CreatedAt: d.CreatedAt.UTC()}
}

func (s *MongoStore) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		N int64 `bson:"n"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"n": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.N, err
}

func (s *MongoStore) CreateTest(ctx context.Context, t Test) (Test, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	seq, err := s.nextSeq(ctx, "tests")
	if err != nil {
		return Test{}, fmt.Errorf("test seq: %w", err)
	}
	t.Seq = seq
	doc := testDoc{
		ID: t.ID, Seq: t.Seq, Title: t.Title, Type: t.Type, Audience: t.Audience, OwnerID: t.OwnerID,
		DurationMinutes: t.DurationMinutes, SecondsPerQuestion: t.SecondsPerQuestion, CreatedAt: t.CreatedAt,
	}
	if _, err := s.tests.InsertOne(ctx, doc); err != nil {
		return Test{}, fmt.Errorf("insert test: %w", err)
	}
	return t, nil
}

func (s *MongoStore) FindTestByID(ctx context.Context, id string) (Test, error) {
	var doc testDoc
	if err := s.tests.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Test{}, notFound("test", id)
		}
		return Test{}, err
	}
	return doc.toTest(), nil
}

func (s *MongoStore) ListTests(ctx context.Context, f TestFilter) ([]Test, error) {
	filter := bson.M{}
	if f.OwnerID != "" {
		filter["created_by"] = f.OwnerID
	}
	if len(f.Audiences) > 0 {
		filter["assigned_to"] = bson.M{"$in": f.Audiences}
	}
	cur, err := s.tests.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []testDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Test, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTest())
	}
	return out, nil
}

func (s *MongoStore) SetAudience(ctx context.Context, testID, audience string) error {
	res, err := s.tests.UpdateOne(ctx, bson.M{"_id": testID}, bson.M{"$set": bson.M{"assigned_to": audience}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return notFound("test", testID)
	}
	return nil
}

// DeleteTestCascade deletes the test document first so a concurrent reader
// never sees questions or submissions whose test still resolves.
func (s *MongoStore) DeleteTestCascade(ctx context.Context, testID string) error {
	res, err := s.tests.DeleteOne(ctx, bson.M{"_id": testID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound("test", testID)
	}
	if _, err := s.questions.DeleteMany(ctx, bson.M{"test_id": testID}); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if _, err := s.submissions.DeleteMany(ctx, bson.M{"test_id": testID}); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	return nil
}

func (s *MongoStore) AddQuestion(ctx context.Context, q Question) (Question, error) {
	if _, err := s.FindTestByID(ctx, q.TestID); err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		q.ID = newID()
	}
	seq, err := s.nextSeq(ctx, "questions")
	if err != nil {
		return Question{}, fmt.Errorf("question seq: %w", err)
	}
	doc := questionDoc{ID: q.ID, TestID: q.TestID, Seq: seq, Text: q.Text, Marks: q.Marks, KeyFields: EncodeKey(q.Key)}
	if _, err := s.questions.InsertOne(ctx, doc); err != nil {
		return Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *MongoStore) FindQuestionsByTestID(ctx context.Context, testID string) ([]Question, error) {
	cur, err := s.questions.Find(ctx, bson.M{"test_id": testID}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []questionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(docs))
	for _, d := range docs {
		q := Question{ID: d.ID, TestID: d.TestID, Text: d.Text, Key: DecodeKey(d.KeyFields)}
		decodeMarks(&q, d.Marks)
		out = append(out, q)
	}
	return out, nil
}

func (s *MongoStore) FindSubmission(ctx context.Context, testID, studentID string) (Submission, error) {
	var doc submissionDoc
	err := s.submissions.FindOne(ctx, bson.M{"test_id": testID, "student_id": studentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Submission{}, notFound("submission", testID+"/"+studentID)
		}
		return Submission{}, err
	}
	return doc.toSubmission(), nil
}

func submissionToDoc(sub Submission) submissionDoc {
	return submissionDoc{
		ID: sub.ID, TestID: sub.TestID, StudentID: sub.StudentID, Answers: sub.Answers,
		Score: sub.Score, Possible: sub.Possible, SubmittedAt: sub.SubmittedAt,
	}
}

func (s *MongoStore) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	if _, err := s.submissions.InsertOne(ctx, submissionToDoc(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *MongoStore) ReplaceSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	doc := submissionToDoc(sub)
	_, err := s.submissions.UpdateOne(ctx,
		bson.M{"test_id": sub.TestID, "student_id": sub.StudentID},
		bson.M{
			"$set": bson.M{
				"answers":      doc.Answers,
				"score":        doc.Score,
				"possible":     doc.Possible,
				"submitted_at": doc.SubmittedAt,
			},
			"$setOnInsert": bson.M{"_id": doc.ID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace submission: %w", err)
	}
	return nil
}

func (s *MongoStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error) {
	filter := bson.M{}
	if f.TestID != "" {
		filter["test_id"] = f.TestID
	}
	if f.StudentID != "" {
		filter["student_id"] = f.StudentID
	}
	cur, err := s.submissions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []submissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Submission, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toSubmission())
	}
	return out, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	doc := userDoc{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash, Role: u.Role, CreatedAt: u.CreatedAt}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, label string) (User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, notFound("user", label)
		}
		return User{}, err
	}
	return doc.toUser(), nil
}

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

func (s *MongoStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return s.findUser(ctx, bson.M{"username": username}, username)
}

func (s *MongoStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	cur, err := s.users.Find(ctx, bson.M{"role": role}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toUser())
	}
	return out, nil
}
