package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/crowdlines/crowdlines/internal/models"
)

const (
	postsCollection    = "posts"
	commentsCollection = "comments"
	countersCollection = "counters"
)

// NewMongoStore builds a Store over a mongo database. Comment creation runs
// in a multi-document transaction, so the server must be a replica set.
func NewMongoStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	posts := db.Collection(postsCollection)
	comments := db.Collection(commentsCollection)
	return &Store{
		Posts:    &mongoPosts{posts: posts, counters: db.Collection(countersCollection)},
		Comments: &mongoComments{client: client, posts: posts, comments: comments},
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		Close: func(ctx context.Context) error {
			return client.Disconnect(ctx)
		},
	}
}

// EnsureMongoIndexes creates the indexes the stores query by.
func EnsureMongoIndexes(ctx context.Context, client *mongo.Client, database string) error {
	db := client.Database(database)
	if _, err := db.Collection(postsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "create posts index")
	}
	if _, err := db.Collection(commentsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "post", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "create comments index")
	}
	return nil
}

type mongoPosts struct {
	posts    *mongo.Collection
	counters *mongo.Collection
}

func (r *mongoPosts) Create(ctx context.Context, post *models.Post) error {
	if err := preparePost(post); err != nil {
		return err
	}
	seq, err := nextSeq(ctx, r.counters, postsCollection)
	if err != nil {
		return err
	}
	post.Seq = seq
	if _, err := r.posts.InsertOne(ctx, post); err != nil {
		return errors.Wrap(err, "insert post")
	}
	return nil
}

func (r *mongoPosts) FindAll(ctx context.Context) ([]models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := r.posts.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find posts")
	}
	posts := []models.Post{}
	if err := cur.All(ctx, &posts); err != nil {
		return nil, errors.Wrap(err, "decode posts")
	}
	for i := range posts {
		if posts[i].Comments == nil {
			posts[i].Comments = []string{}
		}
	}
	return posts, nil
}

func (r *mongoPosts) FindByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post); err != nil {
		return nil, mongoErr(err, "find post")
	}
	if post.Comments == nil {
		post.Comments = []string{}
	}
	return &post, nil
}

func (r *mongoPosts) IncrementUpvotes(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.posts.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"upvotes": 1}}, opts).Decode(&post)
	if err != nil {
		return nil, mongoErr(err, "increment post upvotes")
	}
	if post.Comments == nil {
		post.Comments = []string{}
	}
	return &post, nil
}

func (r *mongoPosts) AppendComment(ctx context.Context, postID, commentID string) error {
	return pushComment(ctx, r.posts, postID, commentID)
}

type mongoComments struct {
	client   *mongo.Client
	posts    *mongo.Collection
	comments *mongo.Collection
}

func (r *mongoComments) Create(ctx context.Context, comment *models.Comment) error {
	if err := prepareComment(comment); err != nil {
		return err
	}
	sess, err := r.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		if err := pushComment(ctx, r.posts, comment.PostID, comment.ID); err != nil {
			return nil, err
		}
		if _, err := r.comments.InsertOne(ctx, comment); err != nil {
			return nil, errors.Wrap(err, "insert comment")
		}
		return nil, nil
	})
	return err
}

func (r *mongoComments) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := r.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&comment); err != nil {
		return nil, mongoErr(err, "find comment")
	}
	return &comment, nil
}

func (r *mongoComments) FindByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	var post models.Post
	if err := r.posts.FindOne(ctx, bson.M{"_id": postID}).Decode(&post); err != nil {
		return nil, mongoErr(err, "find post")
	}
	comments := []models.Comment{}
	if len(post.Comments) == 0 {
		return comments, nil
	}
	cur, err := r.comments.Find(ctx, bson.M{"_id": bson.M{"$in": post.Comments}})
	if err != nil {
		return nil, errors.Wrap(err, "find comments")
	}
	var found []models.Comment
	if err := cur.All(ctx, &found); err != nil {
		return nil, errors.Wrap(err, "decode comments")
	}
	byID := make(map[string]models.Comment, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	// $in does not keep order; follow the post's list.
	for _, id := range post.Comments {
		if c, ok := byID[id]; ok {
			comments = append(comments, c)
		}
	}
	return comments, nil
}

func (r *mongoComments) IncrementUpvotes(ctx context.Context, id string) (*models.Comment, error) {
	var comment models.Comment
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.comments.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"upvotes": 1}}, opts).Decode(&comment)
	if err != nil {
		return nil, mongoErr(err, "increment comment upvotes")
	}
	return &comment, nil
}

// nextSeq hands out increasing numbers per counter name. Timestamps only
// keep milliseconds and ids are random, so neither can order inserts.
func nextSeq(ctx context.Context, counters *mongo.Collection, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := counters.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&counter)
	if err != nil {
		return 0, errors.Wrapf(err, "next %s seq", name)
	}
	return counter.Seq, nil
}

func pushComment(ctx context.Context, posts *mongo.Collection, postID, commentID string) error {
	res, err := posts.UpdateOne(ctx, bson.M{"_id": postID}, bson.M{"$push": bson.M{"comments": commentID}})
	if err != nil {
		return errors.Wrap(err, "append comment")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func mongoErr(err error, msg string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}
